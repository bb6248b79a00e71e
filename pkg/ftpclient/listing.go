package ftpclient

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"xfer/pkg/transfer"
)

// errSkipLine marks a listing line that carries no entry and is not malformed.
var errSkipLine = errors.New("no entry")

var months = map[string]struct{}{
	"jan": {}, "feb": {}, "mar": {}, "apr": {}, "may": {}, "jun": {},
	"jul": {}, "aug": {}, "sep": {}, "oct": {}, "nov": {}, "dec": {},
}

// ParseListLine parses one line of a LIST reply. Unix style lines (with or
// without a group column) and DOS/IIS style lines are understood. user is
// the login name, used to pick the permission triplet that decides
// Readable. Header lines such as "total 12" return errSkipLine.
func ParseListLine(line, user string) (transfer.DirEntry, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return transfer.DirEntry{}, errSkipLine
	}

	fields := strings.Fields(line)
	if len(fields) == 2 && strings.EqualFold(fields[0], "total") {
		if _, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
			return transfer.DirEntry{}, errSkipLine
		}
	}

	if isDOSDate(fields[0]) {
		return parseDOSLine(line)
	}
	return parseUnixLine(line, fields, user)
}

// parseUnixLine handles
//
//	drwxr-xr-x   2 owner group  4096 Jan 13 10:22 name
//	-rw-r--r--   1 owner        1024 Jan 13  2023 name
//	lrwxrwxrwx   1 owner group     7 Jan 13 10:22 name -> target
func parseUnixLine(line string, fields []string, user string) (transfer.DirEntry, error) {
	perms := fields[0]
	if len(perms) < 10 || !strings.ContainsRune("-dlbcps", rune(perms[0])) {
		return transfer.DirEntry{}, fmt.Errorf("unrecognized listing line %q", line)
	}

	// The month column is preceded by the size and followed by day and
	// time-or-year. Its position depends on the group column and on device
	// numbers, so search for it.
	month := -1
	for i := 3; i+3 < len(fields); i++ {
		if _, ok := months[strings.ToLower(fields[i])]; !ok {
			continue
		}
		if isDigits(fields[i-1]) && isDigits(fields[i+1]) {
			month = i
			break
		}
	}
	if month < 0 {
		return transfer.DirEntry{}, fmt.Errorf("no date in listing line %q", line)
	}

	size, err := strconv.ParseInt(fields[month-1], 10, 64)
	if err != nil {
		return transfer.DirEntry{}, fmt.Errorf("invalid size in listing line %q: %w", line, err)
	}

	name := restAfter(line, month+3)
	if name == "" {
		return transfer.DirEntry{}, fmt.Errorf("no name in listing line %q", line)
	}

	e := transfer.DirEntry{Size: size}
	switch perms[0] {
	case 'd':
		e.Kind = transfer.Directory
	case 'l':
		e.Kind = transfer.SymbolicLink
		if i := strings.Index(name, " -> "); i >= 0 {
			name = name[:i]
		}
	default:
		e.Kind = transfer.File
	}
	e.Name = name

	owner := fields[2]
	if user != "" && owner == user {
		e.Readable = perms[1] == 'r'
	} else {
		e.Readable = perms[7] == 'r'
	}

	return e, nil
}

// parseDOSLine handles
//
//	01-13-24  10:22AM       <DIR>          folder
//	01-13-2024  10:22PM              1024 file.txt
func parseDOSLine(line string) (transfer.DirEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 || !isDOSTime(fields[1]) {
		return transfer.DirEntry{}, fmt.Errorf("unrecognized listing line %q", line)
	}

	name := restAfter(line, 3)
	if name == "" {
		return transfer.DirEntry{}, fmt.Errorf("no name in listing line %q", line)
	}

	e := transfer.DirEntry{Name: name, Readable: true}
	if strings.EqualFold(fields[2], "<DIR>") {
		e.Kind = transfer.Directory
		return e, nil
	}

	size, err := strconv.ParseInt(strings.ReplaceAll(fields[2], ",", ""), 10, 64)
	if err != nil {
		return transfer.DirEntry{}, fmt.Errorf("invalid size in listing line %q: %w", line, err)
	}
	e.Kind = transfer.File
	e.Size = size
	return e, nil
}

// restAfter returns line with its first n whitespace separated fields and
// the blanks following them removed. Spaces inside the remainder survive.
func restAfter(line string, n int) string {
	s := line
	for i := 0; i < n; i++ {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		j := strings.IndexFunc(s, unicode.IsSpace)
		if j < 0 {
			return ""
		}
		s = s[j:]
	}
	return strings.TrimLeftFunc(s, unicode.IsSpace)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isDOSDate matches MM-DD-YY and MM-DD-YYYY.
func isDOSDate(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return false
	}
	return len(parts[0]) == 2 && len(parts[1]) == 2 &&
		(len(parts[2]) == 2 || len(parts[2]) == 4) &&
		isDigits(parts[0]) && isDigits(parts[1]) && isDigits(parts[2])
}

// isDOSTime matches HH:MMAM and HH:MMPM.
func isDOSTime(s string) bool {
	if len(s) < 6 {
		return false
	}
	suffix := strings.ToUpper(s[len(s)-2:])
	if suffix != "AM" && suffix != "PM" {
		return false
	}
	hm := strings.Split(s[:len(s)-2], ":")
	return len(hm) == 2 && isDigits(hm[0]) && isDigits(hm[1])
}
