package dispatch

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("request not found")
	ErrProviderIneligible = errors.New("provider is not eligible for emergency requests")
	ErrRequestUnavailable = errors.New("request is no longer available")
	ErrAlreadyRejected    = errors.New("request already rejected")
	ErrForbidden          = errors.New("caller is not the assigned provider")
	ErrInvalidState       = errors.New("request is not in a state that allows this operation")
)

// Refinements callers may match for a more specific response; each also
// matches its parent kind with errors.Is.
var (
	ErrLocationUnknown = fmt.Errorf("%w: provider location not available", ErrProviderIneligible)
	ErrOptedOut        = fmt.Errorf("%w: provider opted out of emergency services", ErrProviderIneligible)
	ErrNotProvider     = fmt.Errorf("%w: caller is not a registered provider", ErrProviderIneligible)
	ErrNotApproved     = fmt.Errorf("%w: provider is not approved or is suspended", ErrProviderIneligible)
	ErrNoAssignee      = fmt.Errorf("%w: no provider assigned yet", ErrInvalidState)
)
