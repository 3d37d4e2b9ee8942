package auth

import (
	"net/http"
	"time"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"

	// AuthModeHeader set to "cookie" switches token delivery to cookies.
	AuthModeHeader = "X-Auth-Mode"

	refreshCookiePath = "/api/v1/auth"
)

// ShouldUseCookies reports whether the client asked for cookie transport.
func ShouldUseCookies(r *http.Request) bool {
	return r.Header.Get(AuthModeHeader) == "cookie"
}

func SetAuthCookies(w http.ResponseWriter, accessToken, refreshToken string, secure bool, accessTTL, refreshTTL time.Duration) {
	now := time.Now()
	http.SetCookie(w, authCookie(AccessTokenCookie, accessToken, "/", now.Add(accessTTL), int(accessTTL/time.Second), secure))
	http.SetCookie(w, authCookie(RefreshTokenCookie, refreshToken, refreshCookiePath, now.Add(refreshTTL), int(refreshTTL/time.Second), secure))
}

func ClearAuthCookies(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, authCookie(AccessTokenCookie, "", "/", time.Unix(0, 0), -1, secure))
	http.SetCookie(w, authCookie(RefreshTokenCookie, "", refreshCookiePath, time.Unix(0, 0), -1, secure))
}

func GetAccessTokenFromCookie(r *http.Request) (string, error) {
	return cookieValue(r, AccessTokenCookie)
}

func GetRefreshTokenFromCookie(r *http.Request) (string, error) {
	return cookieValue(r, RefreshTokenCookie)
}

func authCookie(name, value, path string, expires time.Time, maxAge int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	}
}

func cookieValue(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	if c.Value == "" {
		return "", http.ErrNoCookie
	}
	return c.Value, nil
}
