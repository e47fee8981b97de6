package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.val, f.err
}

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"token":"v"}`), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), " p ")
	require.NoError(t, err)
	require.Equal(t, `{"token":"v"}`, v)
	require.Equal(t, "p", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_Errors(t *testing.T) {
	cases := []struct {
		name   string
		client *Client
		param  string
		want   string
	}{
		{name: "missing value", client: &Client{api: &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}}}, param: "p", want: "missing value"},
		{name: "api error", client: &Client{api: &fakeAPI{getErr: errors.New("boom")}}, param: "p", want: "boom"},
		{name: "not initialized", client: &Client{}, param: "p", want: "not initialized"},
		{name: "empty name", client: &Client{api: &fakeAPI{}}, param: "  ", want: "required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.client.GetParameter(context.Background(), tc.param)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestToken(t *testing.T) {
	tok, err := Token(context.Background(), &fakeGetter{val: `{"token":"sk-1"}`}, "/multichat/kravix-api-key")
	require.NoError(t, err)
	require.Equal(t, "sk-1", tok)

	_, err = Token(context.Background(), &fakeGetter{val: `{"other":"x"}`}, "/n")
	require.ErrorContains(t, err, "token is empty")

	_, err = Token(context.Background(), &fakeGetter{val: `{"broken`}, "/n")
	require.ErrorContains(t, err, "unmarshal")

	_, err = Token(context.Background(), &fakeGetter{err: errors.New("ssm unavailable")}, "/n")
	require.ErrorContains(t, err, "ssm unavailable")

	_, err = Token(context.Background(), nil, "/n")
	require.ErrorContains(t, err, "nil")

	_, err = Token(context.Background(), &fakeGetter{}, " ")
	require.ErrorContains(t, err, "empty")
}

func TestCachedToken_FetchesOnce(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-cached"}`}
	c := NewCachedToken(g, "/n")

	for i := 0; i < 3; i++ {
		tok, err := c.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-cached", tok)
	}
	require.Equal(t, 1, g.calls)
}

func TestCachedToken_RetriesAfterFailure(t *testing.T) {
	g := &fakeGetter{err: errors.New("temporary ssm failure")}
	c := NewCachedToken(g, "/n")

	_, err := c.Get(context.Background())
	require.Error(t, err)

	g.err = nil
	g.val = `{"token":"sk-late"}`
	tok, err := c.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-late", tok)
	require.Equal(t, 2, g.calls)
}

func TestStatic(t *testing.T) {
	tok, err := Static("sk-env").Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-env", tok)
}
