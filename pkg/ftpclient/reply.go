package ftpclient

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Reply codes used by the client.
const (
	codeDataOpen        = 125
	codeOpening         = 150
	codeOK              = 200
	codeNotImplemented  = 202
	codeFileStatus      = 213
	codeReadySoon       = 120
	codeReady           = 220
	codeClosing         = 221
	codeTransferDone    = 226
	codePassive         = 227
	codeExtPassive      = 229
	codeLoggedIn        = 230
	codeActionDone      = 250
	codeNeedPassword    = 331
	codeNeedAccount     = 332
	codeFileUnavailable = 550
)

// preliminary reports a 1xx reply.
func preliminary(code int) bool {
	return code >= 100 && code < 200
}

var pasvRe = regexp.MustCompile(`(\d{1,3}),(\d{1,3}),(\d{1,3}),(\d{1,3}),(\d{1,3}),(\d{1,3})`)

// parsePASV extracts the advertised address of a 227 reply such as
// "Entering Passive Mode (192,168,1,2,195,80)".
func parsePASV(msg string) (string, int, error) {
	m := pasvRe.FindStringSubmatch(msg)
	if m == nil {
		return "", 0, fmt.Errorf("malformed passive reply %q", msg)
	}

	var n [6]int
	for i := range n {
		v, err := strconv.Atoi(m[i+1])
		if err != nil || v > 255 {
			return "", 0, fmt.Errorf("malformed passive reply %q", msg)
		}
		n[i] = v
	}

	ip := fmt.Sprintf("%d.%d.%d.%d", n[0], n[1], n[2], n[3])
	port := n[4]<<8 | n[5]
	if port == 0 {
		return "", 0, fmt.Errorf("passive reply advertises port 0")
	}
	return ip, port, nil
}

// parseEPSV extracts the port of a 229 reply such as
// "Entering Extended Passive Mode (|||6446|)".
func parseEPSV(msg string) (int, error) {
	start := strings.IndexByte(msg, '(')
	end := strings.LastIndexByte(msg, ')')
	if start < 0 || end < start+5 {
		return 0, fmt.Errorf("malformed extended passive reply %q", msg)
	}

	inner := msg[start+1 : end]
	d := inner[0]
	parts := strings.Split(inner, string(d))
	if len(parts) != 5 {
		return 0, fmt.Errorf("malformed extended passive reply %q", msg)
	}

	port, err := strconv.Atoi(parts[3])
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("malformed extended passive reply %q", msg)
	}
	return port, nil
}

// parseSize reads the value of a 213 reply to SIZE.
func parseSize(msg string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(msg), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
