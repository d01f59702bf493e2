package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/bcnelson/stack-traffic-manager/internal/domain"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

const (
	tagStackName    = "StackName"
	tagStackVersion = "StackVersion"

	resourceRecordSet    = "AWS::Route53::RecordSet"
	resourceLoadBalancer = "AWS::ElasticLoadBalancingV2::LoadBalancer"

	defaultConcurrency = 4
)

// CloudFormationAPI is the subset of the CloudFormation client used for discovery.
type CloudFormationAPI interface {
	cloudformation.DescribeStacksAPIClient
	cloudformation.ListStackResourcesAPIClient
}

// LoadBalancerAPI resolves load balancer ARNs to DNS names.
type LoadBalancerAPI interface {
	DescribeLoadBalancers(ctx context.Context, params *elbv2.DescribeLoadBalancersInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error)
}

// CloudFormationDirectory discovers versions from CloudFormation stacks tagged
// with StackName and StackVersion. The domain of a version is the physical id of
// its Route53 record set resource; its endpoint is the DNS name of its load balancer.
type CloudFormationDirectory struct {
	cfn         CloudFormationAPI
	elb         LoadBalancerAPI
	log         logr.Logger
	concurrency int
}

var _ Directory = (*CloudFormationDirectory)(nil)

// NewCloudFormationDirectory creates a directory backed by CloudFormation.
func NewCloudFormationDirectory(cfn CloudFormationAPI, elb LoadBalancerAPI, log logr.Logger) *CloudFormationDirectory {
	return &CloudFormationDirectory{
		cfn:         cfn,
		elb:         elb,
		log:         log.WithName("cloudformation"),
		concurrency: defaultConcurrency,
	}
}

// ListVersions returns one version per live stack of application.
func (d *CloudFormationDirectory) ListVersions(ctx context.Context, application string) ([]domain.StackVersion, error) {
	stacks, err := d.stacks(ctx, application)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		versions = make([]domain.StackVersion, 0, len(stacks))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, s := range stacks {
		s := s
		g.Go(func() error {
			v, err := d.describe(gctx, application, s)
			if err != nil {
				return err
			}
			mu.Lock()
			versions = append(versions, v)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	return versions, nil
}

type stackRef struct {
	name    string
	version string
}

func (d *CloudFormationDirectory) stacks(ctx context.Context, application string) ([]stackRef, error) {
	var refs []stackRef
	p := cloudformation.NewDescribeStacksPaginator(d.cfn, &cloudformation.DescribeStacksInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing stacks: %w", err)
		}
		for _, s := range page.Stacks {
			if !live(s.StackStatus) {
				continue
			}
			tags := make(map[string]string, len(s.Tags))
			for _, t := range s.Tags {
				tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
			}
			if tags[tagStackName] != application || tags[tagStackVersion] == "" {
				continue
			}
			refs = append(refs, stackRef{name: aws.ToString(s.StackName), version: tags[tagStackVersion]})
		}
	}
	d.log.V(1).Info("found stacks", "application", application, "count", len(refs))
	return refs, nil
}

func (d *CloudFormationDirectory) describe(ctx context.Context, application string, ref stackRef) (domain.StackVersion, error) {
	v := domain.StackVersion{
		Application: application,
		Version:     ref.version,
		StackName:   ref.name,
	}

	var lbARN string
	p := cloudformation.NewListStackResourcesPaginator(d.cfn, &cloudformation.ListStackResourcesInput{
		StackName: aws.String(ref.name),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return v, fmt.Errorf("listing resources of stack %s: %w", ref.name, err)
		}
		for _, r := range page.StackResourceSummaries {
			switch aws.ToString(r.ResourceType) {
			case resourceRecordSet:
				if v.Domain == "" {
					v.Domain = domain.NormalizeDomain(aws.ToString(r.PhysicalResourceId))
				}
			case resourceLoadBalancer:
				if lbARN == "" {
					lbARN = aws.ToString(r.PhysicalResourceId)
				}
			}
		}
	}

	if lbARN != "" {
		out, err := d.elb.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{
			LoadBalancerArns: []string{lbARN},
		})
		if err != nil {
			return v, fmt.Errorf("describing load balancer of stack %s: %w", ref.name, err)
		}
		if len(out.LoadBalancers) > 0 {
			v.Endpoint = aws.ToString(out.LoadBalancers[0].DNSName)
		}
	}
	return v, nil
}

func live(status cftypes.StackStatus) bool {
	switch status {
	case cftypes.StackStatusDeleteComplete, cftypes.StackStatusDeleteInProgress:
		return false
	}
	return true
}
