package types

// Version is the mender release version. The commit suffix is appended via
// ldflags at build time.
const Version = "0.2.0"
