/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package synth

import (
	"errors"
	"fmt"
)

// ErrInvalidState is returned for operations the current lifecycle state
// does not allow, such as starting before init or any call after release.
var ErrInvalidState = errors.New("invalid engine state")

// ErrDevice matches every *DeviceError through errors.Is
var ErrDevice = errors.New("audio device error")

// DeviceError reports that the audio output could not be opened or toggled.
// The caller may retry or switch devices.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDevice) true for any DeviceError
func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}

func invalidState(op string, st State) error {
	return fmt.Errorf("%s in state %s: %w", op, st, ErrInvalidState)
}
