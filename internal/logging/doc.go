// Package logging provides the leveled logger used across smart-gallery.
//
// Levels are DEBUG, INFO, WARN and ERROR, plus FATAL which exits. The level
// comes from DEBUG=true or LOG_LEVEL. Output goes to stderr and, when
// EnableFile is called, to a size-rotated log file as well.
package logging
