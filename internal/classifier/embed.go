package classifier

import "embed"

// defaultRules embeds the built-in pattern sets shipped with the binary.
// An on-disk override at ~/.config/tallr/rules/<agent>.yaml replaces a
// given agent's set entirely when present; see Loader.
//
//go:embed rules/*.yaml
var defaultRules embed.FS
