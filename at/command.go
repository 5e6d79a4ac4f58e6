package at

import (
	"fmt"
	"strings"
)

// StartConnection builds the command opening connection id towards ip:port.
// proto is "TCP" or "UDP".
func StartConnection(id int, proto, ip string, port uint16) string {
	return fmt.Sprintf(`AT+CIPSTART=%d,"%s","%s",%d`, id, proto, ip, port)
}

// SendLength announces a payload of n bytes on connection id. The modem
// answers with Prompt once it is ready to take the raw bytes.
func SendLength(id, n int) string {
	return fmt.Sprintf("AT+CIPSEND=%d,%d", id, n)
}

func CloseConnection(id int) string {
	return fmt.Sprintf("AT+CIPCLOSE=%d", id)
}

// Resolve builds the DNS query command. recount is the number of retries
// the modem performs and timeout its per-try timeout in milliseconds.
func Resolve(host string, recount, timeout int) string {
	return fmt.Sprintf(`AT+CDNSGIP="%s",%d,%d`, host, recount, timeout)
}

// SetAPN builds the task/APN command. User and password are only sent
// when at least one of them is set.
func SetAPN(apn, user, password string) string {
	if user == "" && password == "" {
		return fmt.Sprintf(`AT+CSTT="%s"`, apn)
	}
	return fmt.Sprintf(`AT+CSTT="%s","%s","%s"`, apn, user, password)
}

// ConnectionLine returns the per-connection status line for id, e.g.
// "2, CONNECT OK" for ConnectionLine(2, ConnectOK).
func ConnectionLine(id int, suffix string) string {
	return fmt.Sprintf("%d%s", id, suffix)
}

// Unquote strips one pair of surrounding double quotes, if present.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
