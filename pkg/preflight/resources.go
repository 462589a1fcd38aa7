package preflight

import (
	"github.com/twinforge/twinforge/pkg/cloud"
	"github.com/twinforge/twinforge/pkg/registry"
)

// namedResource couples a human-readable resource name with its probe
// reference. The display name is what ends up in a PreflightError.
type namedResource struct {
	display string
	ref     cloud.ResourceRef
}

// requiredResources lists the resources a deployed layer must have on
// the given provider, named with the deployment's twin-name prefix.
// Existence of these is what the next layer's deployment depends on.
func requiredResources(p registry.Provider, layer registry.Layer, twinName string) []namedResource {
	res := func(display, service, suffix string) namedResource {
		return namedResource{display: display, ref: cloud.ResourceRef{Service: service, Name: twinName + suffix}}
	}

	switch p {
	case registry.ProviderAWS:
		switch layer {
		case registry.LayerAcquisition:
			return []namedResource{res("IoT Core Registry", "iot_core", "-iot")}
		case registry.LayerProcessing:
			return []namedResource{
				res("Event Processor Function", "lambda", "-event_processor"),
				res("Step Functions Workflow", "step_functions", "-workflow"),
			}
		case registry.LayerHotStorage:
			return []namedResource{res("DynamoDB Hot Table", "dynamodb", "-hot")}
		case registry.LayerColdStorage:
			return []namedResource{res("S3 Cold Bucket", "s3", "-cold")}
		case registry.LayerArchiveStorage:
			return []namedResource{res("S3 Archive Bucket", "s3", "-archive")}
		case registry.LayerTwinGraph:
			return []namedResource{res("TwinMaker Workspace", "twinmaker", "-workspace")}
		case registry.LayerVisualization:
			return []namedResource{res("Grafana Workspace", "managed_grafana", "-dashboards")}
		}

	case registry.ProviderAzure:
		switch layer {
		case registry.LayerAcquisition:
			return []namedResource{res("IoT Hub", "iot_hub", "-hub")}
		case registry.LayerProcessing:
			return []namedResource{
				res("Function App", "function_app", "-functions"),
				res("Logic App Workflow", "logic_app", "-workflow"),
			}
		case registry.LayerHotStorage:
			return []namedResource{
				res("Cosmos DB Account", "cosmos_db", "-cosmos-account"),
				res("Hot Container", "cosmos_db", "-hot-container"),
			}
		case registry.LayerColdStorage:
			return []namedResource{res("Blob Storage Account", "blob_storage", "-cold")}
		case registry.LayerArchiveStorage:
			return []namedResource{res("Blob Archive Container", "blob_storage", "-archive")}
		case registry.LayerTwinGraph:
			return []namedResource{res("Digital Twins Instance", "digital_twins", "-twins")}
		}

	case registry.ProviderGoogle:
		switch layer {
		case registry.LayerAcquisition:
			return []namedResource{res("Pub/Sub Ingest Topic", "pub_sub", "-ingest")}
		case registry.LayerProcessing:
			return []namedResource{
				res("Event Processor Function", "cloud_functions", "-event_processor"),
				res("Workflow", "workflows", "-workflow"),
			}
		case registry.LayerHotStorage:
			return []namedResource{res("Bigtable Hot Table", "bigtable", "-hot")}
		case registry.LayerColdStorage:
			return []namedResource{res("Cloud Storage Cold Bucket", "cloud_storage", "-cold")}
		case registry.LayerArchiveStorage:
			return []namedResource{res("Cloud Storage Archive Bucket", "cloud_storage", "-archive")}
		case registry.LayerVisualization:
			return []namedResource{res("Looker Studio Dashboard", "looker_studio", "-dashboards")}
		}
	}

	return nil
}

// functionsServiceFor returns the provider service that hosts deployed
// function code, for building glue-function probe references.
func functionsServiceFor(p registry.Provider) string {
	switch p {
	case registry.ProviderAWS:
		return "lambda"
	case registry.ProviderAzure:
		return "function_app"
	case registry.ProviderGoogle:
		return "cloud_functions"
	default:
		return ""
	}
}
