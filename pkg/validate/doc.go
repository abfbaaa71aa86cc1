// Package validate checks user-supplied volume names and creation options
// before any of them touch the host.
//
// Validation errors name the offending value and, for unknown option keys,
// list the valid options with their defaults, because the guest-side error
// string is all the user ever sees.
package validate
