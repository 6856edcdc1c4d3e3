package version

// Version is set at build time with
// -ldflags "-X github.com/livp123/netxpf/internal/version.Version=v1.2.3".
// Version 在构建时通过 -ldflags 注入。
var Version = "dev"
