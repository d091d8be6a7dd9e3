// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package realtime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedWire is returned for wire text that matches no message shape.
var ErrMalformedWire = errors.New("malformed wire message")

// The wire protocol is colon-delimited with positional fields and no
// escaping. Field values must never contain the delimiter; litersWire keeps
// floats in plain decimal notation so they never do.
//
//	start_fill
//	stop_fill
//	update_done
//	init:<machineWater>:<machinePlastic>:<deptWater>:<deptPlastic>:<isPressed>
//	dept_update:<deptWater>:<deptPlastic>
//	<liters>                      (bare float, a flow snapshot)

const wireSep = ":"

func litersWire(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

// EncodeWire renders a message into its legacy wire form.
func EncodeWire(m Message) (string, error) {
	switch m.Kind {
	case KindStartFill, KindStopFill, KindUpdateDone:
		return string(m.Kind), nil

	case KindInit:
		if m.Init == nil {
			return "", fmt.Errorf("%w: init without payload", ErrMalformedWire)
		}
		pressed := "0"
		if m.Init.IsPressed {
			pressed = "1"
		}
		return strings.Join([]string{
			string(KindInit),
			litersWire(m.Init.MachineWater),
			strconv.Itoa(m.Init.MachinePlastic),
			litersWire(m.Init.DeptWater),
			strconv.Itoa(m.Init.DeptPlastic),
			pressed,
		}, wireSep), nil

	case KindDeptUpdate:
		if m.Dept == nil {
			return "", fmt.Errorf("%w: dept_update without payload", ErrMalformedWire)
		}
		return strings.Join([]string{
			string(KindDeptUpdate),
			litersWire(m.Dept.Water),
			strconv.Itoa(m.Dept.Plastic),
		}, wireSep), nil

	case KindFlow:
		return litersWire(m.Flow), nil

	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrMalformedWire, m.Kind)
	}
}

// DecodeWire parses legacy wire text into a typed message.
func DecodeWire(raw string) (Message, error) {
	switch raw {
	case string(KindStartFill):
		return Message{Kind: KindStartFill}, nil
	case string(KindStopFill):
		return Message{Kind: KindStopFill}, nil
	case string(KindUpdateDone):
		return Message{Kind: KindUpdateDone}, nil
	}

	fields := strings.Split(raw, wireSep)
	switch fields[0] {
	case string(KindInit):
		if len(fields) != 6 {
			return Message{}, fmt.Errorf("%w: init wants 5 fields, got %d", ErrMalformedWire, len(fields)-1)
		}
		mw, err1 := strconv.ParseFloat(fields[1], 64)
		mp, err2 := strconv.Atoi(fields[2])
		dw, err3 := strconv.ParseFloat(fields[3], 64)
		dp, err4 := strconv.Atoi(fields[4])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			return Message{}, fmt.Errorf("%w: init counters in %q", ErrMalformedWire, raw)
		}
		var pressed bool
		switch fields[5] {
		case "0":
		case "1":
			pressed = true
		default:
			return Message{}, fmt.Errorf("%w: isPressed must be 0 or 1, got %q", ErrMalformedWire, fields[5])
		}
		return Message{Kind: KindInit, Init: &InitSnapshot{
			MachineWater:   mw,
			MachinePlastic: mp,
			DeptWater:      dw,
			DeptPlastic:    dp,
			IsPressed:      pressed,
		}}, nil

	case string(KindDeptUpdate):
		if len(fields) != 3 {
			return Message{}, fmt.Errorf("%w: dept_update wants 2 fields, got %d", ErrMalformedWire, len(fields)-1)
		}
		w, err1 := strconv.ParseFloat(fields[1], 64)
		p, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			return Message{}, fmt.Errorf("%w: dept_update counters in %q", ErrMalformedWire, raw)
		}
		return Message{Kind: KindDeptUpdate, Dept: &DeptUpdate{Water: w, Plastic: p}}, nil
	}

	// A bare float is a flow snapshot.
	if len(fields) == 1 {
		liters, err := strconv.ParseFloat(raw, 64)
		if err == nil {
			return Message{Kind: KindFlow, Flow: liters}, nil
		}
	}
	return Message{}, fmt.Errorf("%w: %q", ErrMalformedWire, raw)
}
