// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ResponseKind identifies a decoded device response
type ResponseKind int

const (
	// ResponsePong acknowledges PING
	ResponsePong ResponseKind = iota
	// ResponseData carries page bytes for READ
	ResponseData
	// ResponseOK means the device is ready for raw write bytes
	ResponseOK
	// ResponseDone means a written page was accepted
	ResponseDone
	// ResponseError is a device-reported failure
	ResponseError
	// ResponseUnknown is any line that matched no known token
	ResponseUnknown
)

// String returns a short name for the response kind
func (k ResponseKind) String() string {
	switch k {
	case ResponsePong:
		return TokenPong
	case ResponseData:
		return TokenData
	case ResponseOK:
		return TokenOK
	case ResponseDone:
		return TokenDone
	case ResponseError:
		return TokenError
	case ResponseUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("ResponseKind(%d)", int(k))
	}
}

// Response is one decoded device line. Data is set for ResponseData, Text for
// ResponseError and ResponseUnknown.
type Response struct {
	Text string
	Data []byte
	Kind ResponseKind
}

// PongResponse returns a PONG response.
func PongResponse() Response { return Response{Kind: ResponsePong} }

// OKResponse returns an OK response.
func OKResponse() Response { return Response{Kind: ResponseOK} }

// DoneResponse returns a DONE response.
func DoneResponse() Response { return Response{Kind: ResponseDone} }

// DataResponse returns a DATA response carrying data.
func DataResponse(data []byte) Response {
	return Response{Kind: ResponseData, Data: data}
}

// ErrorResponse returns a device error response.
func ErrorResponse(text string) Response {
	return Response{Kind: ResponseError, Text: text}
}

// UnknownResponse wraps an unrecognised line.
func UnknownResponse(text string) Response {
	return Response{Kind: ResponseUnknown, Text: text}
}

// DecodeResponse decodes one response line. Trailing whitespace and line
// endings are ignored. The only decode failure is a DATA line whose payload
// is not valid hex; everything unrecognised becomes ResponseUnknown.
func DecodeResponse(line string) (Response, error) {
	text := strings.TrimRight(line, lineTrim)

	switch {
	case text == TokenPong:
		return PongResponse(), nil
	case text == TokenOK:
		return OKResponse(), nil
	case text == TokenDone:
		return DoneResponse(), nil
	case text == TokenData:
		return DataResponse([]byte{}), nil
	case strings.HasPrefix(text, TokenData+" "):
		payload, err := hex.DecodeString(strings.TrimSpace(text[len(TokenData)+1:]))
		if err != nil {
			return Response{}, fmt.Errorf("%w: %w", ErrMalformedData, err)
		}
		return DataResponse(payload), nil
	case isErrorLine(text):
		return ErrorResponse(errorText(text)), nil
	default:
		return UnknownResponse(text), nil
	}
}

// isErrorLine reports whether text is ERR or ERROR on its own or followed by
// a space or colon. Words that merely start with ERR are not errors.
func isErrorLine(text string) bool {
	rest, ok := strings.CutPrefix(text, TokenError)
	if !ok {
		return false
	}
	rest = strings.TrimPrefix(rest, "OR")
	return rest == "" || rest[0] == ' ' || rest[0] == ':'
}

// errorText strips the ERR / ERROR token and any separator from a device
// error line.
func errorText(text string) string {
	rest := strings.TrimPrefix(text, TokenError)
	rest = strings.TrimPrefix(rest, "OR")
	return strings.TrimLeft(rest, " :")
}

// Payload returns the page bytes of a DATA response. The payload must be
// exactly length bytes long; a short or long page is a protocol violation,
// never a partial result.
func (r Response) Payload(length int) ([]byte, error) {
	if r.Kind != ResponseData {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedResponse, r)
	}
	if len(r.Data) != length {
		return nil, fmt.Errorf("%w: requested %d bytes, got %d", ErrLengthMismatch, length, len(r.Data))
	}
	return r.Data, nil
}

// Encode returns the response as the device sends it.
func (r Response) Encode() []byte {
	var line string
	switch r.Kind {
	case ResponsePong:
		line = TokenPong
	case ResponseOK:
		line = TokenOK
	case ResponseDone:
		line = TokenDone
	case ResponseData:
		line = fmt.Sprintf("%s %X", TokenData, r.Data)
	case ResponseError:
		line = strings.TrimSpace(TokenError + " " + r.Text)
	case ResponseUnknown:
		line = r.Text
	}
	return append([]byte(line), LineTerminator)
}

// String formats the response for logs and error messages.
func (r Response) String() string {
	switch r.Kind {
	case ResponseData:
		return fmt.Sprintf("DATA (%d bytes)", len(r.Data))
	case ResponseError:
		return fmt.Sprintf("ERR %q", r.Text)
	case ResponseUnknown:
		return fmt.Sprintf("unknown %q", r.Text)
	case ResponsePong, ResponseOK, ResponseDone:
		return r.Kind.String()
	default:
		return r.Kind.String()
	}
}
