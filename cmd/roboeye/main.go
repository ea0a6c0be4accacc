package main

import (
	"github.com/bryanchriswhite/RoboEye/cmd/roboeye/commands"

	// in-process GStreamer camera driver
	_ "github.com/bryanchriswhite/RoboEye/internal/capture/gstreamer"
)

func main() {
	commands.Execute()
}
