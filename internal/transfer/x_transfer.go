package transfer

// XTokenResponse is the X OAuth2 token endpoint payload, returned for both
// authorization_code and refresh_token grants. refresh_token is optional on
// refresh; the provider is not required to rotate it.
type XTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// XUserResponse is the /2/users/me payload.
type XUserResponse struct {
	Data struct {
		ID              string `json:"id"`
		Username        string `json:"username"`
		Name            string `json:"name"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

type TweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

// TweetRequest is the /2/tweets creation body.
type TweetRequest struct {
	Text  string      `json:"text"`
	Reply *TweetReply `json:"reply,omitempty"`
}

type TweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// XAPIError covers the shapes the X API uses for failures. Depending on the
// endpoint and failure mode the message lives in detail, title, or errors[0].
type XAPIError struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	ErrorDescription string `json:"error_description"`
}

// Message extracts the most specific error text available, falling back to a
// generic message when the body carried none of the known fields.
func (e *XAPIError) Message() string {
	switch {
	case e.Detail != "":
		return e.Detail
	case e.Title != "":
		return e.Title
	case len(e.Errors) > 0 && e.Errors[0].Message != "":
		return e.Errors[0].Message
	case e.ErrorDescription != "":
		return e.ErrorDescription
	default:
		return "X API error"
	}
}
