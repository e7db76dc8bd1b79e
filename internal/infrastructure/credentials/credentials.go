package credentials

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"mdstream/internal/domain/model"
)

// Load returns explicit when it carries any credential, otherwise reads
// <VENUE>_API_KEY, <VENUE>_ACCESS_TOKEN, ... from the environment (and .env if present).
func Load(venue string, explicit *model.AuthData) (*model.AuthData, error) {
	if explicit != nil && !empty(explicit) {
		cp := *explicit
		return &cp, nil
	}

	// .env 不存在时忽略
	_ = godotenv.Load()

	var auth model.AuthData
	if err := envconfig.Process(strings.ToUpper(venue), &auth); err != nil {
		return nil, fmt.Errorf("%s credentials: %w", venue, err)
	}
	return &auth, nil
}

// Require checks that every named credential field is set ("api_key", "access_token", ...).
func Require(venue string, auth *model.AuthData, fields ...string) error {
	var missing []string
	for _, f := range fields {
		if value(auth, f) == "" {
			missing = append(missing, strings.ToUpper(venue)+"_"+strings.ToUpper(f))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing credentials %s", venue, strings.Join(missing, ", "))
	}
	return nil
}

func value(a *model.AuthData, field string) string {
	if a == nil {
		return ""
	}
	switch strings.ToLower(field) {
	case "api_key":
		return a.APIKey
	case "api_secret":
		return a.APISecret
	case "access_token":
		return a.AccessToken
	case "feed_token":
		return a.FeedToken
	case "client_id":
		return a.ClientID
	}
	return ""
}

func empty(a *model.AuthData) bool {
	return a.APIKey == "" && a.APISecret == "" && a.AccessToken == "" && a.FeedToken == "" && a.ClientID == ""
}
