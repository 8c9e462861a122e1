package flows

import (
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

var errMissingAccessToken = errors.New("response carries no access_token")

// decodeToken reads the {access_token, refresh_token?, token_type?, expires_in?}
// body shared by the login and refresh endpoints.
func decodeToken(body []byte, now time.Time) (*oauth2.Token, error) {
	tok := &oauth2.Token{}
	if err := json.Unmarshal(body, tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errMissingAccessToken
	}
	if tok.Expiry.IsZero() && tok.ExpiresIn > 0 {
		tok.Expiry = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return tok, nil
}
