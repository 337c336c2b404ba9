// Package builtin provides host functions callable from expressions in
// scenario documents.
//
// Available functions:
//   - uuid(): Random UUID v4
//   - now(): Current UTC time in RFC 3339
//   - timestamp(), timestampMs(): Current Unix time
//   - date(layout="2006-01-02"): Current UTC date
//   - random(min=0, max=100): Random integer in range
//   - randomString(length=16), randomAlphanumeric(length=8), randomEmail()
//   - base64(value), base64Decode(value)
//   - md5(value), sha256(value)
//   - urlEncode(value), urlDecode(value)
//   - env(name, default=None): Environment variable value
//
// They are invoked like any expression function: {{ uuid() }}.
package builtin
