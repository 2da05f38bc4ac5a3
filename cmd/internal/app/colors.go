package app

import "strconv"

const (
	ansiReset   = "\x1b[0m"
	ansiDim     = "\x1b[2m"
	ansiBright  = "\x1b[1m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func applyColor(s, code string, color bool) string {
	if !color {
		return s
	}
	return code + s + ansiReset
}

func applyDim(s string, color bool) string  { return applyColor(s, ansiDim, color) }
func applyBold(s string, color bool) string { return applyColor(s, ansiBright, color) }

func colorizeHTTPMethod(method string, color bool) string {
	if !color {
		return method
	}
	switch method {
	case "GET":
		return applyColor(method, ansiGreen, true)
	case "POST", "PUT", "PATCH":
		return applyColor(method, ansiYellow, true)
	case "DELETE":
		return applyColor(method, ansiRed, true)
	default:
		return method
	}
}

func colorizeStatusCode(status int, color bool) string {
	s := strconv.Itoa(status)
	if !color {
		return s
	}
	switch {
	case status >= 500:
		return applyColor(s, ansiRed, true)
	case status >= 400:
		return applyColor(s, ansiYellow, true)
	case status >= 300:
		return applyColor(s, ansiCyan, true)
	default:
		return applyColor(s, ansiGreen, true)
	}
}

func colorizeResult(result string, color bool) string {
	if !color {
		return result
	}
	switch result {
	case "success", "redirect":
		return applyColor(result, ansiGreen, true)
	case "client_error":
		return applyColor(result, ansiYellow, true)
	case "server_error":
		return applyColor(result, ansiRed, true)
	default:
		return result
	}
}
