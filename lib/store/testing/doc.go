// Package testing provides a conformance suite for store.IStore
// implementations. The local store runs it against every engine and the RPC
// client runs it end to end against a server.
//
//	storetesting.RunStoreTests(t, "MyStore", func() store.IStore {
//		return newMyStore()
//	})
package testing
