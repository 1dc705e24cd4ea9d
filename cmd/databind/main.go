// Command databind queries, imports, pages and serves record collections.
package main

import "github.com/mesh-intelligence/databind/internal/cli"

func main() {
	cli.Execute()
}
