package config

import (
	"fmt"
	"strings"

	apperrors "github.com/mrscotty/keynanny/internal/errors"
)

// hookPrefix marks a config value that resolves through the hook registry.
const hookPrefix = "hook:"

// hooks is the declared set of dynamic config values. The original
// implementation allowed arbitrary code as config values; only these named
// forms survive, and anything else dynamic is rejected at load time.
var hooks = map[string]func() string{
	"socket_mode": func() string { return fmt.Sprintf("%04o", uint32(DefaultSocketMode)) },
	"umask":       func() string { return fmt.Sprintf("%04o", uint32(DefaultUmask)) },
}

// resolveHooks replaces hook: values with their registry result and rejects
// unknown dynamic forms.
func resolveHooks(raw map[string]map[string]string) error {
	for section, keys := range raw {
		for key, value := range keys {
			trimmed := strings.TrimSpace(value)
			if strings.HasPrefix(trimmed, "sub ") || strings.HasPrefix(trimmed, "sub{") {
				return apperrors.Wrapf(apperrors.ErrConfig,
					"code value in %s.%s is not supported, use a hook: reference", section, key)
			}
			if !strings.HasPrefix(trimmed, hookPrefix) {
				continue
			}
			name := strings.TrimPrefix(trimmed, hookPrefix)
			hook, ok := hooks[name]
			if !ok {
				return apperrors.Wrapf(apperrors.ErrConfig,
					"unknown hook %q in %s.%s", name, section, key)
			}
			keys[key] = hook()
		}
	}
	return nil
}
