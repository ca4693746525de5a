// Package config defines the installer settings and provides helpers to load,
// validate and save them.
//
// Settings come from an optional YAML file (by default under the XDG config
// home), overridden by SETWP_INSTALL_* environment variables. Destination
// directories derive from the package manager prefix unless set explicitly.
package config
