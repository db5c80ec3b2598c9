/* Apache v2 license
*  Copyright (C) <2019> Intel Corporation
*
*  SPDX-License-Identifier: Apache-2.0
 */

package mongodb

import "fmt"

// PersistenceError marks a storage write that was abandoned after retries.
type PersistenceError struct {
	Op    string
	Cause error
}

func (err PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure in %s: %v", err.Op, err.Cause)
}

// Unwrap exposes the underlying error for cause inspection.
func (err PersistenceError) Unwrap() error {
	return err.Cause
}
