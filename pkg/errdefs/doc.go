/*
Package errdefs defines the error taxonomy shared by all vmdkops packages.

Every failure the service reports falls into exactly one of six classes:

  - Validation: bad user input (size syntax, unknown option, name charset,
    unknown datastore, disallowed policy)
  - NotFound: volume or image missing, device missing on detach
  - Capacity: no free SCSI controller or unit slot
  - Conflict: volume attached elsewhere, or a colliding reconfiguration
  - Infrastructure: external command or hypervisor call failed
  - Protocol: malformed request, unknown command, transport decode failure

The classes are sentinel errors wrapped with error chains, so classification
survives any number of fmt.Errorf("...: %w", err) wrappings on the way up.
The dispatcher and service loop use the Is* predicates only for logging and
metrics labels; every error crosses the service boundary as the single
{"Error": message} reply shape.

# Usage

	if len(name) > maxVolNameLen {
		return errdefs.Validation("volume name is too long (max len is %d)", maxVolNameLen)
	}

	if errdefs.IsNotFound(err) {
		// not retryable, report immediately
	}
*/
package errdefs
