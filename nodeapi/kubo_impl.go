package nodeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	files "github.com/ipfs/go-ipfs-files"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
	"github.com/libp2p/go-libp2p-core/peer"
	"github.com/libp2p/go-libp2p-core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	ipfslab "github.com/WithoutAName25/ipfs-lab"
)

var log = logging.Logger("lab-nodeapi")

var defaultRequestTimeout = time.Second * 30

// uploads carry the same form filename the nodes have always seen, so repo
// listings stay recognizable across driver versions
const uploadFilename = "random_file"

// Option is an option for configuring the API client
type Option func(*kuboAPI)

// RequestTimeout overrides the default bound applied to requests whose
// context carries no deadline of its own
func RequestTimeout(d time.Duration) Option {
	return func(k *kuboAPI) {
		k.requestTimeout = d
	}
}

// APIVersion overrides the version segment of every request path
func APIVersion(version string) Option {
	return func(k *kuboAPI) {
		k.apiVersion = version
	}
}

// HTTPClient substitutes the underlying HTTP client
func HTTPClient(client *http.Client) Option {
	return func(k *kuboAPI) {
		k.client = client
	}
}

// NewKuboAPI returns an API that drives nodes over the Kubo RPC surface.
// Every command is an HTTP POST against the node's control port; the client
// itself is stateless and safe for concurrent use.
func NewKuboAPI(options ...Option) API {
	k := &kuboAPI{
		client:         &http.Client{},
		apiVersion:     "v0",
		requestTimeout: defaultRequestTimeout,
	}
	for _, option := range options {
		option(k)
	}
	return k
}

type kuboAPI struct {
	client         *http.Client
	apiVersion     string
	requestTimeout time.Duration
}

func (k *kuboAPI) ResolveAddr(ctx context.Context, node ipfslab.Node) (net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, node.Name)
	if err != nil {
		return nil, xerrors.Errorf("%w: %s: %s", ipfslab.ErrAddressUnresolved, node.Name, err)
	}
	for _, addr := range addrs {
		if ip := addr.IP.To4(); ip != nil {
			return ip, nil
		}
	}
	if len(addrs) > 0 {
		return addrs[0].IP, nil
	}
	return nil, xerrors.Errorf("%w: %s: name has no addresses", ipfslab.ErrAddressUnresolved, node.Name)
}

func (k *kuboAPI) Identity(ctx context.Context, node ipfslab.Node) (peer.ID, error) {
	data, err := k.do(ctx, node, "id", nil, nil, "")
	if err != nil {
		return "", xerrors.Errorf("%w: %s: %s", ipfslab.ErrIdentityUnavailable, node.Name, err)
	}
	var resp struct {
		ID string
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", xerrors.Errorf("%w: %s: %s", ipfslab.ErrIdentityUnavailable, node.Name, err)
	}
	id, err := peer.Decode(resp.ID)
	if err != nil {
		return "", xerrors.Errorf("%w: %s: decoding %q: %s", ipfslab.ErrIdentityUnavailable, node.Name, resp.ID, err)
	}
	return id, nil
}

func (k *kuboAPI) Connect(ctx context.Context, node ipfslab.Node, target ma.Multiaddr) error {
	args := url.Values{}
	args.Set("arg", target.String())
	if _, err := k.do(ctx, node, "swarm/connect", args, nil, ""); err != nil {
		return xerrors.Errorf("%w: %s -> %s: %s", ipfslab.ErrConnectRefused, node.Name, target, err)
	}
	return nil
}

func (k *kuboAPI) PeerSessions(ctx context.Context, node ipfslab.Node) ([]PeerSession, error) {
	args := url.Values{}
	args.Set("verbose", "true")
	data, err := k.do(ctx, node, "swarm/peers", args, nil, "")
	if err != nil {
		return nil, xerrors.Errorf("listing sessions on %s: %w", node.Name, err)
	}
	var resp struct {
		Peers []struct {
			Addr    string
			Peer    string
			Latency string
			Streams []struct {
				Protocol string
			}
		}
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, xerrors.Errorf("decoding sessions on %s: %w", node.Name, err)
	}
	sessions := make([]PeerSession, 0, len(resp.Peers))
	for _, p := range resp.Peers {
		id, err := peer.Decode(p.Peer)
		if err != nil {
			log.Warnf("%s reported a session with undecodable peer %q: %s", node.Name, p.Peer, err)
			continue
		}
		session := PeerSession{Peer: id, Latency: p.Latency}
		if addr, err := ma.NewMultiaddr(p.Addr); err == nil {
			session.Addr = addr
		}
		for _, s := range p.Streams {
			session.Streams = append(session.Streams, protocol.ID(s.Protocol))
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (k *kuboAPI) Upload(ctx context.Context, node ipfslab.Node, payload []byte) (cid.Cid, error) {
	entry := files.FileEntry(uploadFilename, files.NewBytesFile(payload))
	body := files.NewMultiFileReader(files.NewSliceDirectory([]files.DirEntry{entry}), true)
	contentType := "multipart/form-data; boundary=" + body.Boundary()
	data, err := k.do(ctx, node, "add", nil, body, contentType)
	if err != nil {
		return cid.Undef, classify(xerrors.Errorf("upload to %s: %w", node.Name, err))
	}
	var resp struct {
		Name string
		Hash string
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return cid.Undef, xerrors.Errorf("decoding add response from %s: %w", node.Name, err)
	}
	c, err := cid.Decode(resp.Hash)
	if err != nil {
		return cid.Undef, xerrors.Errorf("decoding identifier %q from %s: %w", resp.Hash, node.Name, err)
	}
	log.Debugw("uploaded", "node", node.Name, "bytes", len(payload), "cid", c)
	return c, nil
}

func (k *kuboAPI) Fetch(ctx context.Context, node ipfslab.Node, c cid.Cid) ([]byte, error) {
	args := url.Values{}
	args.Set("arg", c.String())
	data, err := k.do(ctx, node, "cat", args, nil, "")
	if err != nil {
		return nil, classify(xerrors.Errorf("fetch %s via %s: %w", c, node.Name, err))
	}
	log.Debugw("fetched", "node", node.Name, "bytes", len(data), "cid", c)
	return data, nil
}

// do issues one command against a node's API and returns the response body.
// Contexts without deadlines get the client's request timeout so a wedged
// node cannot stall the driver forever.
func (k *kuboAPI) do(ctx context.Context, node ipfslab.Node, command string, args url.Values, body io.Reader, contentType string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.requestTimeout)
		defer cancel()
	}
	u := fmt.Sprintf("http://%s/api/%s/%s", node.APIAddr, k.apiVersion, command)
	if len(args) > 0 {
		u += "?" + args.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.Status, data)
	}
	return data, nil
}

func apiError(status string, body []byte) error {
	var apiErr struct {
		Message string
		Code    int
		Type    string
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		return xerrors.Errorf("api responded %s: %s", status, apiErr.Message)
	}
	return xerrors.Errorf("api responded %s: %s", status, strings.TrimSpace(string(body)))
}

// classify tags deadline failures so callers can tell a timed out operation
// from one the node rejected
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return xerrors.Errorf("%w: %s", ipfslab.ErrOpTimeout, err)
	}
	return err
}

// WaitReady blocks until every node in the roster answers an identity probe.
// Probes retry with exponential backoff until the context expires; the error
// reported is the probed node's last failure.
func WaitReady(ctx context.Context, api Control, nodes []ipfslab.Node) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		node := node
		eg.Go(func() error {
			b := &backoff.Backoff{
				Min:    250 * time.Millisecond,
				Max:    5 * time.Second,
				Factor: 2,
				Jitter: true,
			}
			for {
				_, err := api.Identity(ctx, node)
				if err == nil {
					return nil
				}
				if ctx.Err() != nil {
					return xerrors.Errorf("waiting for %s: %w", node.Name, err)
				}
				d := b.Duration()
				log.Debugf("%s not ready, retrying in %s: %s", node.Name, d, err)
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return xerrors.Errorf("waiting for %s: %w", node.Name, err)
				}
			}
		})
	}
	return eg.Wait()
}
