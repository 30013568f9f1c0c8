package logging

const (
	FieldComponent  = "component"
	FieldHandlerID  = "handler_id"
	FieldRemoteAddr = "remote_addr"
	FieldName       = "name"
	FieldListener   = "listener"
	FieldMessageID  = "message_id"
	FieldCommand    = "command"
	FieldState      = "state"
)
