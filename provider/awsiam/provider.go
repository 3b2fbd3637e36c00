// Package awsiam implements the lease provider for AWS IAM users. A
// lease is an IAM user named by the generated username, carrying the
// configured policies and one access key; revocation strips and deletes
// the user. AWS owns credential expiry semantics, so renew is a receipt.
package awsiam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	smithy "github.com/aws/smithy-go"
	"github.com/go-viper/mapstructure/v2"
	multierror "github.com/hashicorp/go-multierror"

	"github.com/stephnangue/lessor/lease"
	"github.com/stephnangue/lessor/logger"
)

// Kind is the backend kind identifier for this provider
const Kind = "awsiam"

// Config describes one AWS account target
type Config struct {
	// AccessKeyID and SecretAccessKey are the administrative credentials
	// used to manage the leased users.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// Region the IAM and STS clients are built for
	Region string `mapstructure:"region"`

	// PolicyARNs are attached to every created user
	PolicyARNs []string `mapstructure:"policy_arns"`

	// UserPath is the optional IAM path created users live under
	UserPath string `mapstructure:"user_path"`
}

// Provider implements lease.Provider for AWS IAM
type Provider struct {
	log logger.Logger
}

// New creates the AWS IAM provider
func New(log logger.Logger) *Provider {
	return &Provider{
		log: log.WithSubsystem(Kind),
	}
}

// Kind returns the backend kind identifier
func (p *Provider) Kind() string {
	return Kind
}

// Validate parses and sanity-checks a raw config
func (p *Provider) Validate(raw map[string]any) error {
	_, err := parseConfig(raw)
	return err
}

func parseConfig(raw map[string]any) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", lease.ErrValidation, err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", lease.ErrValidation, err)
	}

	var merr *multierror.Error
	if cfg.AccessKeyID == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'access_key_id' is required"))
	}
	if cfg.SecretAccessKey == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'secret_access_key' is required"))
	}
	if cfg.Region == "" {
		merr = multierror.Append(merr, fmt.Errorf("field 'region' is required"))
	}
	if len(cfg.PolicyARNs) == 0 {
		merr = multierror.Append(merr, fmt.Errorf("field 'policy_arns' is required"))
	}

	if err := merr.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", lease.ErrValidation, err)
	}

	return &cfg, nil
}

func (p *Provider) clients(cfg *Config) (*iam.Client, *sts.Client) {
	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	return iam.NewFromConfig(awsCfg), sts.NewFromConfig(awsCfg)
}

// ValidateConnection verifies the administrative credentials with a
// lightweight STS call. A rejected identity reports false; transport
// failures that never reached the service propagate as connection
// errors so callers can retry them.
func (p *Provider) ValidateConnection(ctx context.Context, raw map[string]any) (bool, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return false, err
	}

	_, stsClient := p.clients(cfg)

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := stsClient.GetCallerIdentity(probeCtx, &sts.GetCallerIdentityInput{}); err != nil {
		if isAPIRejection(err) {
			p.log.Debug("caller identity rejected", logger.Err(err))
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", lease.ErrConnection, err)
	}
	return true, nil
}

// isAPIRejection reports whether the service answered and refused the
// request, as opposed to a transport failure that never reached it.
func isAPIRejection(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr)
}

// Create provisions an IAM user with the configured policies and one
// access key. A failure partway tears the user back down so no partial
// principal survives.
func (p *Provider) Create(ctx context.Context, raw map[string]any, expireAt time.Time) (*lease.Lease, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}

	pair, err := lease.GenerateCredentialPair(lease.CredentialRules{})
	if err != nil {
		return nil, err
	}
	username := pair.Username

	iamClient, _ := p.clients(cfg)

	createInput := &iam.CreateUserInput{
		UserName: &username,
		Tags: []types.Tag{
			{Key: aws.String("managed-by"), Value: aws.String("lessor")},
			{Key: aws.String("expire-at"), Value: aws.String(expireAt.UTC().Format(time.RFC3339))},
		},
	}
	if cfg.UserPath != "" {
		createInput.Path = &cfg.UserPath
	}

	if _, err := iamClient.CreateUser(ctx, createInput); err != nil {
		return nil, fmt.Errorf("%w: failed to create IAM user: %v", lease.ErrExecution, err)
	}

	for _, arn := range cfg.PolicyARNs {
		if _, err := iamClient.AttachUserPolicy(ctx, &iam.AttachUserPolicyInput{
			UserName:  &username,
			PolicyArn: aws.String(arn),
		}); err != nil {
			p.teardownUser(ctx, iamClient, username)
			return nil, fmt.Errorf("%w: failed to attach policy %s: %v", lease.ErrExecution, arn, err)
		}
	}

	keyOut, err := iamClient.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{UserName: &username})
	if err != nil {
		p.teardownUser(ctx, iamClient, username)
		return nil, fmt.Errorf("%w: failed to create access key: %v", lease.ErrExecution, err)
	}

	return &lease.Lease{
		EntityID: username,
		Data: map[string]string{
			"username":          username,
			"access_key_id":     *keyOut.AccessKey.AccessKeyId,
			"secret_access_key": *keyOut.AccessKey.SecretAccessKey,
		},
	}, nil
}

// Renew is a receipt: IAM users carry no backend-side expiry to extend
func (p *Provider) Renew(ctx context.Context, raw map[string]any, entityID string, expireAt time.Time) (*lease.Lease, error) {
	if _, err := parseConfig(raw); err != nil {
		return nil, err
	}
	return &lease.Lease{EntityID: entityID}, nil
}

// Revoke strips and deletes the leased user. A user already removed by
// an external actor is a successful revocation.
func (p *Provider) Revoke(ctx context.Context, raw map[string]any, entityID string) (*lease.Lease, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, err
	}

	iamClient, _ := p.clients(cfg)

	if err := p.teardownUser(ctx, iamClient, entityID); err != nil {
		return nil, fmt.Errorf("%w: %v", lease.ErrExecution, err)
	}

	return &lease.Lease{EntityID: entityID}, nil
}

// teardownUser detaches policies, deletes access keys and removes the
// user, tolerating entities that no longer exist.
func (p *Provider) teardownUser(ctx context.Context, iamClient *iam.Client, username string) error {
	policies, err := iamClient.ListAttachedUserPolicies(ctx, &iam.ListAttachedUserPoliciesInput{UserName: &username})
	if err != nil {
		if isNoSuchEntity(err) {
			return nil
		}
		return fmt.Errorf("failed to list attached policies for %s: %w", username, err)
	}
	for _, policy := range policies.AttachedPolicies {
		if _, err := iamClient.DetachUserPolicy(ctx, &iam.DetachUserPolicyInput{
			UserName:  &username,
			PolicyArn: policy.PolicyArn,
		}); err != nil && !isNoSuchEntity(err) {
			return fmt.Errorf("failed to detach policy: %w", err)
		}
	}

	keys, err := iamClient.ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: &username})
	if err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("failed to list access keys for %s: %w", username, err)
	}
	if keys != nil {
		for _, key := range keys.AccessKeyMetadata {
			if _, err := iamClient.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
				UserName:    &username,
				AccessKeyId: key.AccessKeyId,
			}); err != nil && !isNoSuchEntity(err) {
				return fmt.Errorf("failed to delete access key: %w", err)
			}
		}
	}

	if _, err := iamClient.DeleteUser(ctx, &iam.DeleteUserInput{UserName: &username}); err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("failed to delete user %s: %w", username, err)
	}

	return nil
}

func isNoSuchEntity(err error) bool {
	var nse *types.NoSuchEntityException
	return errors.As(err, &nse)
}
