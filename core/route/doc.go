// Package route implements per-host route resolution and round-robin load
// balancing for the reverse proxy.
//
// A Table maps inbound host names to a Router. Each Router keeps its routes
// sorted by descending path-prefix length so that the first match of a linear
// scan is the longest prefix. A prefix matches only on a path boundary: "/test"
// matches "/test" and "/test/x" but not "/testing".
//
//	tbl := route.NewTable()
//	_, _, err := tbl.Add("example.com/api", []string{"10.0.0.1:8080", "10.0.0.2:8080"}, route.Options{})
//	rt := tbl.Resolve("example.com", "/api/users")
//	target := rt.NextTarget()
package route
