package config

import "errors"

// ErrConfig wraps a startup configuration failure; the process exits 1 on
// this per the protocol's documented exit codes.
var ErrConfig = errors.New("configuration error")
