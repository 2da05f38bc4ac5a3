// Package realtime pushes refresh signals to connected browsers.
//
// The Hub fans out topic notifications published after mutations (request
// submitted or decided, points credited). Clients never receive data over
// the socket; a refresh frame tells them which REST resource to refetch.
// The gateway also runs a routing guard per connection so role and auth
// changes take effect immediately via redirect and signout frames.
package realtime
