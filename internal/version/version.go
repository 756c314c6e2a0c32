package version

// Version is the current version of liveroom.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/skillbridge/liveroom/internal/version.Version=v1.0.0'"
var Version = "dev"
