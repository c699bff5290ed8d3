package store

// ServiceName is the fully-qualified name of the resource store RPC service.
const ServiceName = "quantix.store.v1.ResourceStore"

// Procedure paths of the resource store service. Requests and responses are
// google.protobuf.Struct documents.
const (
	ProcedureAuthenticate   = "/" + ServiceName + "/Authenticate"
	ProcedureListHosts      = "/" + ServiceName + "/ListHosts"
	ProcedureListPendingVMs = "/" + ServiceName + "/ListPendingVMs"
	ProcedureListUsers      = "/" + ServiceName + "/ListUsers"
	ProcedureListACLRules   = "/" + ServiceName + "/ListACLRules"
	ProcedureDispatchVM     = "/" + ServiceName + "/DispatchVM"
)

// Procedures lists every procedure of the service.
var Procedures = []string{
	ProcedureAuthenticate,
	ProcedureListHosts,
	ProcedureListPendingVMs,
	ProcedureListUsers,
	ProcedureListACLRules,
	ProcedureDispatchVM,
}
