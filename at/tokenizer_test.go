package at_test

import (
	"bufio"
	"strings"
	"testing"

	"i4.energy/across/simnet/at"
)

func TestSplitter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Simple AT command response",
			input:    "AT+CSQ\r\n+CSQ: 15,99\r\nOK\r\n",
			expected: []string{"AT+CSQ", "+CSQ: 15,99", "OK"},
		},
		{
			name:     "AT command with error",
			input:    "AT+CPIN?\r\n+CME ERROR: 10\r\n",
			expected: []string{"AT+CPIN?", "+CME ERROR: 10"},
		},
		{
			name:     "Send sequence",
			input:    "\r\n> hello\x1A\r\n0, SEND OK\r\n",
			expected: []string{"", "> ", "hello\x1A", "0, SEND OK"},
		},
		{
			name:     "Network registration check",
			input:    "AT+CREG?\r\n+CREG: 0,1\r\nOK\r\n",
			expected: []string{"AT+CREG?", "+CREG: 0,1", "OK"},
		},
		{
			name:     "Identification",
			input:    "AT+CGMR\r\nRevision:1418B05SIM800L24\r\n\r\nOK\r\n",
			expected: []string{"AT+CGMR", "Revision:1418B05SIM800L24", "", "OK"},
		},
		{
			name:     "URC mixed with AT response",
			input:    "AT+CSQ\r\n+RECEIVE,1,4:\r\n+CSQ: 20,99\r\nOK\r\n",
			expected: []string{"AT+CSQ", "+RECEIVE,1,4:", "+CSQ: 20,99", "OK"},
		},
		{
			name:     "Prompt only",
			input:    "> ",
			expected: []string{"> "},
		},
		{
			name:     "Empty lines handling",
			input:    "\r\n\r\nAT\r\nOK\r\n\r\n",
			expected: []string{"", "", "AT", "OK", ""},
		},
		{
			name:     "Multiple URCs",
			input:    "RDY\r\n+CPIN: READY\r\n+CREG: 1\r\n0, CLOSED\r\n",
			expected: []string{"RDY", "+CPIN: READY", "+CREG: 1", "0, CLOSED"},
		},
		// EOF scenarios - testing atEOF functionality
		{
			name:     "Incomplete command at EOF",
			input:    "AT+CSQ\r\n+CSQ: 15,99",
			expected: []string{"AT+CSQ", "+CSQ: 15,99"},
		},
		{
			name:     "Command without CRLF at EOF",
			input:    "AT+CPIN",
			expected: []string{"AT+CPIN"},
		},
		{
			name:     "Partial prompt at EOF",
			input:    "AT+CIPSEND=0,5\r\n>",
			expected: []string{"AT+CIPSEND=0,5", ">"},
		},
		{
			name:     "Response cut off mid-stream at EOF",
			input:    "AT+CSQ\r\n+CSQ: 15,99\r\nOK\r\n+CREG: ",
			expected: []string{"AT+CSQ", "+CSQ: 15,99", "OK", "+CREG: "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tokens []string
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(at.Splitter)

			for scanner.Scan() {
				tokens = append(tokens, scanner.Text())
			}

			if err := scanner.Err(); err != nil {
				t.Fatalf("Scanner error: %v", err)
			}

			if len(tokens) != len(tt.expected) {
				t.Fatalf("Expected %d tokens, got %d.\nExpected: %v\nGot: %v",
					len(tt.expected), len(tokens), tt.expected, tokens)
			}

			for i, expected := range tt.expected {
				if tokens[i] != expected {
					t.Errorf("Token %d: expected %q, got %q", i, expected, tokens[i])
				}
			}
		})
	}
}
