package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/stagespec/packages/core/document"
	"github.com/abdul-hamid-achik/stagespec/packages/http"
)

type regexArgs struct {
	Expression string `mapstructure:"expression"`
	Header     string `mapstructure:"header"`
}

func (a regexArgs) compile() (*regexp.Regexp, error) {
	if a.Expression == "" {
		return nil, errors.New("expression is required")
	}
	return regexp.Compile(a.Expression)
}

func (a regexArgs) subject(resp *http.Response) string {
	if a.Header != "" {
		return resp.Header(a.Header)
	}
	return resp.BodyString()
}

// regexSave saves the named groups of the first match. Without named groups
// the whole match is saved as "match".
func regexSave(_ context.Context, resp *http.Response, kwargs map[string]any) (map[string]any, error) {
	var args regexArgs
	if err := decodeSpec(kwargs, &args); err != nil {
		return nil, err
	}
	re, err := args.compile()
	if err != nil {
		return nil, err
	}

	m := re.FindStringSubmatch(args.subject(resp))
	if m == nil {
		return nil, fmt.Errorf("no match for %q", args.Expression)
	}
	out := make(map[string]any)
	for i, name := range re.SubexpNames() {
		if i > 0 && name != "" {
			out[name] = m[i]
		}
	}
	if len(out) == 0 {
		out["match"] = m[0]
	}
	return out, nil
}

func regexVerify(_ context.Context, resp *http.Response, kwargs map[string]any) (bool, error) {
	var args regexArgs
	if err := decodeSpec(kwargs, &args); err != nil {
		return false, err
	}
	re, err := args.compile()
	if err != nil {
		return false, err
	}
	return re.MatchString(args.subject(resp)), nil
}

type jwtClaimsArgs struct {
	Key    string `mapstructure:"jwt_key"`
	Secret string `mapstructure:"secret"`
	As     string `mapstructure:"as"`
}

// jwtClaimsSave decodes the token found at jwt_key in the JSON body. With a
// secret the HS256 signature is verified, otherwise claims are read
// unverified.
func jwtClaimsSave(_ context.Context, resp *http.Response, kwargs map[string]any) (map[string]any, error) {
	var args jwtClaimsArgs
	if err := decodeSpec(kwargs, &args); err != nil {
		return nil, err
	}
	if args.Key == "" {
		return nil, errors.New("jwt_key is required")
	}
	if args.As == "" {
		args.As = "claims"
	}

	res := gjson.GetBytes(resp.Body, args.Key)
	if !res.Exists() || res.Type != gjson.String {
		return nil, fmt.Errorf("no token string at %q", args.Key)
	}

	claims := jwt.MapClaims{}
	if args.Secret != "" {
		_, err := jwt.ParseWithClaims(res.String(), claims, func(t *jwt.Token) (any, error) {
			return []byte(args.Secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithJSONNumber())
		if err != nil {
			return nil, fmt.Errorf("verifying token: %w", err)
		}
	} else if _, _, err := jwt.NewParser(jwt.WithJSONNumber()).ParseUnverified(res.String(), claims); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	return map[string]any{args.As: document.Normalize(map[string]any(claims))}, nil
}
