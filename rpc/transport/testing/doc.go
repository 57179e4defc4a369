// Package testing provides the transport matrix used by the tests of the rpc
// packages: every supported combination of transport and secure channel with
// matching server and client configurations bound to loopback addresses.
//
// Usage:
//
//	for _, setup := range transporttesting.Setups(t) {
//		t.Run(setup.Name, func(t *testing.T) {
//			addr := setup.Serve(t, handler)
//			client := setup.Dial(t, addr)
//			...
//		})
//	}
package testing
