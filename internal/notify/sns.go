package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSSender delivers pushes to device endpoint ARNs via AWS SNS.
type SNSSender struct {
	client *sns.Client
}

// NewSNSSender builds an SNS-backed sender for the given region.
func NewSNSSender(ctx context.Context, region string) (*SNSSender, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &SNSSender{client: sns.NewFromConfig(cfg)}, nil
}

// Send publishes one message to the endpoint token. Disabled or malformed
// endpoints surface as ErrInvalidToken so the dispatcher prunes the token.
func (s *SNSSender) Send(ctx context.Context, token, title, body string) error {
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TargetArn: aws.String(token),
		Subject:   aws.String(title),
		Message:   aws.String(body),
	})
	if err != nil {
		var disabled *types.EndpointDisabledException
		var invalid *types.InvalidParameterException
		if errors.As(err, &disabled) || errors.As(err, &invalid) {
			return fmt.Errorf("%w: %s", ErrInvalidToken, err)
		}
		return err
	}
	return nil
}
