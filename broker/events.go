package broker

// Event marks a state change in the broker's authentication lifecycle.
type Event string

const (
	// EventAuthenticated fires after a successful login or the first
	// profile fetch that finds a signed-in principal.
	EventAuthenticated Event = "authenticated"

	// EventUnauthenticated fires after a failed login attempt. The
	// principal is the attempted username; the password is never
	// included.
	EventUnauthenticated Event = "unauthenticated"

	// EventLoggedOut fires after a successful logout.
	EventLoggedOut Event = "logged_out"
)

// Listener receives lifecycle events. Payload is nil for logout
// events.
type Listener func(event Event, principal string, payload map[string]any)
