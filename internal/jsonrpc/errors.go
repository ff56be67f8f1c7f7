package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code.
type ErrorCode int

const (
	// ErrorCodeParseError: the body was not valid JSON.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest: valid JSON, not a valid request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound: the method is not served here.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams: params failed validation.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError: the server failed while handling the call.
	ErrorCodeInternalError ErrorCode = -32603
)
