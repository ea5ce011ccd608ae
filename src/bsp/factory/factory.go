package factory

import (
	"github.com/gofrs/uuid"
	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/jsonrpc2"
	lsputil "go.lsp.dev/uri"
)

// UUID is a user-defined factory for a random uuid.UUID.
func UUID() uuid.UUID {
	return uuid.Must(uuid.NewV4())
}

// JSONRPCRequest is a user-defined factory for a JSON-RPC request containing the specified method and parameters.
func JSONRPCRequest(method string, params interface{}) jsonrpc2.Request {
	req, _ := jsonrpc2.NewCall(jsonrpc2.NewNumberID(5), method, params)
	return req
}

// JSONRPCNotification is a user-defined factory for a JSON-RPC notification containing the specified method and parameters.
func JSONRPCNotification(method string, params interface{}) jsonrpc2.Request {
	req, _ := jsonrpc2.NewNotification(method, params)
	return req
}

// BuildTargetID is a factory for a target identifier within a workspace root.
func BuildTargetID(root, name string) protocol.BuildTargetIdentifier {
	return protocol.BuildTargetIdentifier{
		URI: lsputil.URI(string(lsputil.File(root)) + "?id=" + name),
	}
}
