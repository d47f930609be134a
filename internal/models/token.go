package models

// TokenPair is returned together from issuance and from refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Identity is what an identity source hands to the token manager.
type Identity struct {
	Subject  string
	Email    string
	Username string
}
