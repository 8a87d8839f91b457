// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import "errors"

var (
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrTenantHasAccounts    = errors.New("tenant has accounts, delete restricted")
	ErrTenantHasMessages    = errors.New("tenant has messages, delete restricted")
	ErrTenantInactive       = errors.New("tenant is not active")

	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountCrossTenant   = errors.New("account does not belong to tenant")
	ErrInvalidLimitBehavior = errors.New("limit_behavior must be \"defer\" or \"reject\"")

	ErrMessageNotFound = errors.New("message not found")
	ErrMessageTerminal = errors.New("message already has a terminal smtp_ts, cannot be resent")
	ErrInvalidPriority = errors.New("priority must be one of 0,1,2,3")
	ErrInvalidPayload  = errors.New("invalid message payload")

	ErrEventNotFound = errors.New("event not found")
)
