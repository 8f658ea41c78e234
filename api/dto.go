// Package api implements the KDS wire layer: HTTP handlers over
// storage.Manager, validator.Validator, ticket.Issuer and
// groupkey.Issuer, mapping kdserrors kinds to status codes.
package api

// setKeyRequest is the PUT /v1/keys/{name} body.
type setKeyRequest struct {
	Key string `json:"key"`
}

// setKeyResponse is the PUT /v1/keys/{name} success body.
type setKeyResponse struct {
	Name       string `json:"name"`
	Generation uint64 `json:"generation"`
}

// createGroupResponse is the PUT /v1/groups/{name} success body.
type createGroupResponse struct {
	Name string `json:"name"`
}

// signedRequest is the POST /v1/tickets and POST /v1/groups body.
type signedRequest struct {
	Metadata  string `json:"metadata"`
	Signature string `json:"signature"`
}

// ticketResponse is the POST /v1/tickets success body.
type ticketResponse struct {
	Metadata  string `json:"metadata"`
	Signature string `json:"signature"`
	Ticket    string `json:"ticket"`
}

// groupKeyResponse is the POST /v1/groups success body.
type groupKeyResponse struct {
	Metadata  string `json:"metadata"`
	Signature string `json:"signature"`
	GroupKey  string `json:"group_key"`
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}
