package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		twinNamingPolicy(),
		retentionOrderingPolicy(),
		providerSlotsPolicy(),
		optimizationConsistencyPolicy(),
		eventWiringPolicy(),
	}
}

// twinNamingPolicy enforces digital twin naming conventions.
func twinNamingPolicy() Policy {
	return Policy{
		Name:        "twin-naming",
		Description: "Enforces digital twin naming conventions (lowercase, alphanumeric, hyphens only)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package twinforge.policies.naming

import rego.v1

deny contains violation if {
	input.project
	name := input.project.settings.digitalTwinName

	# Name must contain only lowercase letters, numbers, and hyphens
	not regex.match("^[a-z0-9-]+$", name)
	violation := {
		"message": sprintf("twin name '%s' must contain only lowercase letters, numbers, and hyphens", [name]),
		"severity": "error",
		"detail": "digitalTwinName",
	}
}

deny contains violation if {
	input.project
	name := input.project.settings.digitalTwinName

	regex.match("^-", name)
	violation := {
		"message": sprintf("twin name '%s' must not start with a hyphen", [name]),
		"severity": "error",
		"detail": "digitalTwinName",
	}
}

deny contains violation if {
	input.project
	name := input.project.settings.digitalTwinName

	regex.match("-$", name)
	violation := {
		"message": sprintf("twin name '%s' must not end with a hyphen", [name]),
		"severity": "error",
		"detail": "digitalTwinName",
	}
}

deny contains violation if {
	input.project
	name := input.project.settings.digitalTwinName

	# Resource names derive from the twin name; keep room for suffixes
	count(name) < 3
	violation := {
		"message": sprintf("twin name '%s' must be at least 3 characters long", [name]),
		"severity": "error",
		"detail": "digitalTwinName",
	}
}

deny contains violation if {
	input.project
	name := input.project.settings.digitalTwinName

	count(name) > 40
	violation := {
		"message": sprintf("twin name '%s' must not exceed 40 characters", [name]),
		"severity": "error",
		"detail": "digitalTwinName",
	}
}`,
	}
}

// retentionOrderingPolicy enforces the storage tier retention ordering.
func retentionOrderingPolicy() Policy {
	return Policy{
		Name:        "retention-ordering",
		Description: "Enforces hot <= cold <= archive retention window ordering",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"retention", "storage"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package twinforge.policies.retention

import rego.v1

deny contains violation if {
	input.project
	r := input.project.settings.retention

	r.hotDays > r.coldDays
	violation := {
		"message": sprintf("hot retention of %d days exceeds cold retention of %d days", [r.hotDays, r.coldDays]),
		"severity": "error",
		"detail": "retention",
	}
}

deny contains violation if {
	input.project
	r := input.project.settings.retention

	r.coldDays > r.archiveDays
	violation := {
		"message": sprintf("cold retention of %d days exceeds archive retention of %d days", [r.coldDays, r.archiveDays]),
		"severity": "error",
		"detail": "retention",
	}
}`,
	}
}

// providerSlotsPolicy keeps provider assignments inside the closed set.
func providerSlotsPolicy() Policy {
	return Policy{
		Name:        "provider-slots",
		Description: "Ensures every layer slot names a supported provider",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"providers", "layers"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package twinforge.policies.providers

import rego.v1

allowed_providers := {"aws", "azure", "google"}

required_slots := ["layer_1", "layer_2", "layer_3_hot", "layer_3_cold", "layer_3_archive"]

optional_slots := ["layer_4", "layer_5"]

deny contains violation if {
	input.project
	some slot in required_slots
	p := input.project.providerMap[slot]

	not p in allowed_providers
	violation := {
		"message": sprintf("layer slot %s names unsupported provider '%s'", [slot, p]),
		"severity": "error",
		"detail": slot,
	}
}

deny contains violation if {
	input.project
	some slot in optional_slots
	p := input.project.providerMap[slot]

	# Optional slots may be empty but never carry an unknown provider
	p != ""
	not p in allowed_providers
	violation := {
		"message": sprintf("layer slot %s names unsupported provider '%s'", [slot, p]),
		"severity": "error",
		"detail": slot,
	}
}

deny contains violation if {
	input.project

	# Visualization without a twin graph has nothing to render
	input.project.providerMap.layer_5 != ""
	input.project.providerMap.layer_4 == ""
	violation := {
		"message": "layer_5 is assigned but layer_4 is empty; visualization requires the twin graph layer",
		"severity": "error",
		"detail": "layer_5",
	}
}`,
	}
}

// optimizationConsistencyPolicy checks optimization flags against the
// rest of the configuration.
func optimizationConsistencyPolicy() Policy {
	return Policy{
		Name:        "optimization-consistency",
		Description: "Warns when optimization flags disagree with the layer assignments",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"optimization", "flags"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package twinforge.policies.optimization

import rego.v1

deny contains violation if {
	input.project

	input.project.providerMap.layer_5 != ""
	not input.project.optimization.enableDashboard
	violation := {
		"message": "layer_5 is assigned but enableDashboard is off; datasources will not be wired after apply",
		"severity": "warning",
		"detail": "enableDashboard",
	}
}

deny contains violation if {
	input.project

	input.project.optimization.enableDashboard
	input.project.providerMap.layer_5 == ""
	violation := {
		"message": "enableDashboard is on but no provider owns layer_5",
		"severity": "warning",
		"detail": "enableDashboard",
	}
}`,
	}
}

// eventWiringPolicy validates event rules against the device inventory
// and the feedback flag.
func eventWiringPolicy() Policy {
	return Policy{
		Name:        "event-wiring",
		Description: "Validates event feedback targets and the feedback flag",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"events", "devices"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package twinforge.policies.events

import rego.v1

device_ids contains id if {
	some device in input.project.devices
	id := device.id
}

deny contains violation if {
	input.project
	some event in input.project.events

	event.action.feedback
	not input.project.optimization.enableEventFeedback
	violation := {
		"message": sprintf("event on condition '%s' declares feedback but enableEventFeedback is off", [event.condition]),
		"severity": "error",
		"detail": "enableEventFeedback",
	}
}

deny contains violation if {
	input.project
	some event in input.project.events

	target := event.action.feedback.iotDeviceId
	not target in device_ids
	violation := {
		"message": sprintf("event feedback targets unknown device '%s'", [target]),
		"severity": "error",
		"detail": target,
	}
}`,
	}
}
