// Package registry announces game servers in etcd and lets clients find them.
//
// Each server instance is stored under
//
//	/dlink/{service}/{addr}
//
// with a JSON encoded Instance as value. The key is attached to a lease that
// is renewed while the server runs, so a crashed server disappears once the
// lease expires.
package registry
