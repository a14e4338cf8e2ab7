package gdbstub

import (
	"strconv"
	"strings"
)

// ArgKind tags which argument variant a parsed Command carries.
type ArgKind int

const (
	ArgNone ArgKind = iota
	ArgInt
	ArgMemRegion
	ArgMemWrite
	ArgBreakpoint
	ArgThread
	ArgHPacket
	ArgVCont
)

// ThreadID is a multiprocess-form thread id: -1 means all, 0 means any.
type ThreadID struct {
	PID int64
	TID int64
}

// VContAction is one action of a vCont packet, optionally bound to a
// specific thread.
type VContAction struct {
	Op     byte // 'c', 's', 'C', 'S'
	Thread ThreadID
	HasTID bool
}

// Command is a decoded RSP command: the name (the prefix up to the
// first ':', ',' or ';') plus whichever argument variant the command
// uses.
type Command struct {
	Name string
	Kind ArgKind

	Int int64

	Addr   uint64
	Length uint64
	Data   string // hex payload of a memory write

	BPType uint64
	BPKind uint64

	Thread ThreadID

	HOp byte // 'c' or 'g'

	Actions []VContAction
}

// parseCommand splits a packet payload into the typed command form.
// Single-letter commands keep their letter as Name and parse the rest
// according to that letter's grammar; q/v commands keep the full name
// up to the first separator.
func parseCommand(payload string) Command {
	if payload == "" {
		return Command{}
	}
	switch payload[0] {
	case 'm', 'M', 'X':
		return parseMemCommand(payload)
	case 'p', 'P':
		return parseRegCommand(payload)
	case 'c', 's':
		c := Command{Name: payload[:1]}
		if len(payload) > 1 {
			if v, err := strconv.ParseUint(payload[1:], 16, 64); err == nil {
				c.Kind = ArgInt
				c.Int = int64(v)
			}
		}
		return c
	case 'H':
		return parseHCommand(payload)
	case 'Z', 'z':
		return parseBreakpointCommand(payload)
	case 'T':
		c := Command{Name: "T", Kind: ArgThread}
		c.Thread = parseThreadID(payload[1:])
		return c
	case 'v':
		return parseVCommand(payload)
	case 'q', 'Q':
		name, rest, _ := strings.Cut(payload, ":")
		return Command{Name: name, Data: rest}
	default:
		return Command{Name: payload[:1], Data: payload[1:]}
	}
}

// parseMemCommand handles m/M/X: "m addr,len" and "M addr,len:data".
func parseMemCommand(payload string) Command {
	c := Command{Name: payload[:1]}
	body := payload[1:]
	head, data, hasData := strings.Cut(body, ":")
	addrStr, lenStr, ok := strings.Cut(head, ",")
	if !ok {
		return c
	}
	addr, err1 := strconv.ParseUint(addrStr, 16, 64)
	length, err2 := strconv.ParseUint(lenStr, 16, 64)
	if err1 != nil || err2 != nil {
		return c
	}
	c.Addr, c.Length = addr, length
	if hasData {
		c.Kind = ArgMemWrite
		c.Data = data
	} else {
		c.Kind = ArgMemRegion
	}
	return c
}

// parseRegCommand handles p/P: "p n" and "P n=hexval".
func parseRegCommand(payload string) Command {
	c := Command{Name: payload[:1]}
	body := payload[1:]
	numStr, val, hasVal := strings.Cut(body, "=")
	n, err := strconv.ParseUint(numStr, 16, 64)
	if err != nil {
		return c
	}
	c.Kind = ArgInt
	c.Int = int64(n)
	if hasVal {
		c.Data = val
	}
	return c
}

// parseHCommand handles "H c tid" / "H g tid".
func parseHCommand(payload string) Command {
	c := Command{Name: "H", Kind: ArgHPacket}
	body := payload[1:]
	if body == "" {
		return c
	}
	c.HOp = body[0]
	c.Thread = parseThreadID(body[1:])
	return c
}

// parseBreakpointCommand handles "Z type,addr,kind" / "z type,addr,kind".
func parseBreakpointCommand(payload string) Command {
	c := Command{Name: payload[:1]}
	parts := strings.SplitN(payload[1:], ",", 3)
	if len(parts) < 3 {
		return c
	}
	bpType, err1 := strconv.ParseUint(parts[0], 16, 64)
	addr, err2 := strconv.ParseUint(parts[1], 16, 64)
	kind, err3 := strconv.ParseUint(parts[2], 16, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return c
	}
	c.Kind = ArgBreakpoint
	c.BPType, c.Addr, c.BPKind = bpType, addr, kind
	return c
}

// parseVCommand handles vCont/vCont? and leaves other v-packets named
// but argument-free.
func parseVCommand(payload string) Command {
	name, rest, _ := cutAny(payload, ";:")
	c := Command{Name: name}
	if name != "vCont" || rest == "" {
		return c
	}
	c.Kind = ArgVCont
	for _, action := range strings.Split(rest, ";") {
		if action == "" {
			continue
		}
		a := VContAction{Op: action[0]}
		if idx := strings.IndexByte(action, ':'); idx >= 0 {
			a.Thread = parseThreadID(action[idx+1:])
			a.HasTID = true
		}
		c.Actions = append(c.Actions, a)
	}
	return c
}

// parseThreadID parses the multiprocess "p<pid>.<tid>" form as well as
// the bare "<tid>" form. "-1" means all, "0" means any.
func parseThreadID(s string) ThreadID {
	id := ThreadID{PID: 1}
	if s == "" {
		return id
	}
	if s[0] == 'p' {
		pidStr, tidStr, ok := strings.Cut(s[1:], ".")
		if pid, err := strconv.ParseInt(pidStr, 16, 64); err == nil {
			id.PID = pid
		}
		if !ok {
			return id
		}
		s = tidStr
	}
	if tid, err := strconv.ParseInt(s, 16, 64); err == nil {
		id.TID = tid
	}
	return id
}

// cutAny splits s at the first byte present in seps.
func cutAny(s, seps string) (before, after string, found bool) {
	if idx := strings.IndexAny(s, seps); idx >= 0 {
		return s[:idx], s[idx+1:], true
	}
	return s, "", false
}
