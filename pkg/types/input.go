package types

import "time"

// InputType defines what value a blocking prompt asks the operator for.
type InputType string

const (
	InputTypeEmail         InputType = "email"           // InputTypeEmail asks for the login email.
	InputTypePassword      InputType = "password"        // InputTypePassword asks for the login password.
	InputTypeTwoFactorCode InputType = "two_factor_code" // InputTypeTwoFactorCode asks for the one-time second factor code.
)

// IsSecret reports whether the answer should not be echoed.
func (t InputType) IsSecret() bool {
	return t == InputTypePassword
}

// InputRequest is a blocking prompt. It is answered by exactly one InputResponse with the same ID.
type InputRequest struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	Type      InputType `json:"type"`
	Prompt    string    `json:"prompt"`
}

// InputResponse carries the operator's answer.
type InputResponse struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// NewInputResponse creates a response for the request id.
func NewInputResponse(id, value string) *InputResponse {
	return &InputResponse{ID: id, Value: value}
}
