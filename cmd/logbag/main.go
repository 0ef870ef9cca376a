// Command logbag reads, writes, converts, merges, sorts and recovers
// MCAP and ROS 1 bag v2.0 log files.
package main

import "github.com/foxglove-labs/logbag/cmd/logbag/cmd"

func main() {
	cmd.Execute()
}
