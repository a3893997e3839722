package network

// ErrLoginFailed is returned by Start when the server denied the login.
type ErrLoginFailed struct {
	Reason string
}

func (e *ErrLoginFailed) Error() string {
	return "login failed: " + e.Reason
}

func IsLoginFailed(err error) bool {
	_, ok := err.(*ErrLoginFailed)
	return ok
}

// ErrConnectionClosedByClient is returned by reads after Stop.
type ErrConnectionClosedByClient struct{}

func (e *ErrConnectionClosedByClient) Error() string {
	return "connection closed by client"
}
