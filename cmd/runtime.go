package cmd

import (
	"context"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smartswap/config"
	"smartswap/pkg/account"
	"smartswap/pkg/apperr"
	"smartswap/pkg/auth"
	"smartswap/pkg/bundler"
	"smartswap/pkg/client"
	"smartswap/pkg/logging"
	"smartswap/pkg/session"
	"smartswap/pkg/signer"
	"smartswap/pkg/tokens"
	"smartswap/pkg/types"
	"smartswap/pkg/wallet"
)

const userAgent = "smartswap-cli/0.1.0"

// runtime wires the components a command needs from the configuration.
// Network clients are created lazily so offline commands stay offline.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	http   *http.Client

	store    session.Store
	auth     *auth.Client
	chainAPI *client.ChainAPIClient
	registry *signer.Registry

	eth     *ethclient.Client
	bundler *rpc.Client
	closers []func()
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.LoadFile(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, invalid("INVALID_CONFIG", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	l, err := logging.New(level, cfg.LogFormat)
	if err != nil {
		return nil, invalid("INVALID_CONFIG", err)
	}
	logger = l

	r := &runtime{
		cfg:    cfg,
		logger: l,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
	}
	r.closers = append(r.closers, func() { _ = l.Sync() })

	if err := r.openStore(cmd.Context()); err != nil {
		r.Close()
		return nil, err
	}

	r.auth = auth.NewClient(cfg.AuthBaseURL, cfg.VersionID, cfg.DeviceID, userAgent, l).WithHTTPClient(r.http)
	r.chainAPI = client.NewChainAPIClient(cfg.ChainAPIBaseURL, client.ChainAPIOptions{
		VersionID: cfg.VersionID,
		RateLimit: cfg.RateLimit,
		Timeout:   cfg.RequestTimeout,
	}, l)
	r.registry = signer.NewRegistry(cfg.WalletBaseURL, r.http, l)
	return r, nil
}

func (r *runtime) openStore(ctx context.Context) error {
	switch r.cfg.SessionBackend {
	case config.SessionBackendRedis:
		store, err := session.NewRedisStore(ctx, session.RedisOptions{
			Addr:     r.cfg.RedisAddr,
			Password: r.cfg.RedisPassword,
			DB:       r.cfg.RedisDB,
		})
		if err != nil {
			return apperr.Transport("SESSION_STORE_UNAVAILABLE", "Session store is not available", err)
		}
		r.store = store
		r.closers = append(r.closers, func() { _ = store.Close() })
	default:
		store, err := session.NewFileStore(r.cfg.SessionFile)
		if err != nil {
			return apperr.Transport("SESSION_STORE_UNAVAILABLE", "Session store is not available", err)
		}
		r.store = store
	}
	return nil
}

// Close releases every connection the runtime opened
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// session loads the stored session; nil when logged out. An expired session
// is reported, never used.
func (r *runtime) session(ctx context.Context) (*types.Session, error) {
	sess, err := r.store.Load(ctx)
	if err != nil {
		return nil, apperr.Transport("SESSION_LOAD_FAILED", "Failed to read session", err)
	}
	if sess == nil {
		return nil, nil
	}
	if sess.Expired(time.Now()) {
		return nil, wallet.ErrSessionExpired
	}

	if sess.IDToken != "" {
		claims, err := auth.Claims(sess.IDToken)
		if err != nil {
			r.logger.Warn("id token claims unreadable", zap.Error(err))
			claims = nil
		}
		if err := r.chainAPI.SetIdentity(sess.IDToken, claims); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (r *runtime) requireSession(ctx context.Context) (*types.Session, error) {
	sess, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, signer.ErrSessionRequired
	}
	return sess, nil
}

func (r *runtime) chainID() *big.Int {
	return big.NewInt(r.cfg.ChainID)
}

func (r *runtime) ethClient(ctx context.Context) (*ethclient.Client, error) {
	if r.eth != nil {
		return r.eth, nil
	}
	c, err := ethclient.DialContext(ctx, r.cfg.ChainRPCURL)
	if err != nil {
		return nil, apperr.Transport("RPC_UNAVAILABLE", "Chain RPC is not available", err)
	}
	r.eth = c
	r.closers = append(r.closers, c.Close)
	return c, nil
}

// strategy picks the signer strategy from --signer, falling back to the
// private key when one is configured
func (r *runtime) strategy(cmd *cobra.Command) (signer.Strategy, error) {
	name, _ := cmd.Flags().GetString("signer")
	if name == "" {
		if r.cfg.OwnerPrivateKey != "" {
			return signer.StrategyPrivateKey, nil
		}
		return signer.StrategyCustodial, nil
	}
	return signer.ParseStrategy(name)
}

// workspace resolves the signer and provisions the smart account
func (r *runtime) workspace(cmd *cobra.Command) (*wallet.Workspace, error) {
	ctx := cmd.Context()

	strategy, err := r.strategy(cmd)
	if err != nil {
		return nil, err
	}

	var sess *types.Session
	if strategy == signer.StrategyCustodial {
		if sess, err = r.requireSession(ctx); err != nil {
			return nil, err
		}
	} else if sess, err = r.session(ctx); err != nil {
		r.logger.Debug("ignoring unusable session", zap.Error(err))
		sess = nil
	}

	eth, err := r.ethClient(ctx)
	if err != nil {
		return nil, err
	}

	opts := account.Options{
		Factory:    common.HexToAddress(r.cfg.Factory),
		EntryPoint: common.HexToAddress(r.cfg.EntryPoint),
		ChainID:    r.chainID(),
	}
	ws := wallet.NewWorkspace(signer.NewResolver(r.registry, r.logger), map[signer.Strategy]account.Provisioner{
		signer.StrategyPrivateKey: account.NewFactoryProvisioner(eth, opts, r.logger),
		signer.StrategyCustodial:  account.NewCustodialProvisioner(r.cfg.WalletBaseURL, r.http, eth, opts, r.logger),
	}, r.logger)

	if err := ws.Refresh(ctx, wallet.Inputs{
		Strategy:   strategy,
		Session:    sess,
		PrivateKey: r.cfg.OwnerPrivateKey,
	}); err != nil {
		return nil, err
	}
	return ws, nil
}

// submitter connects the configured submission path. It returns a nil
// submitter (and the static estimator) when nothing is configured, so the
// swap reports the missing connection as a precondition.
func (r *runtime) submitter(ctx context.Context) (bundler.Submitter, bundler.Estimator, error) {
	entryPoint := common.HexToAddress(r.cfg.EntryPoint)

	switch r.cfg.SubmitMode {
	case config.SubmitModeRelayer:
		if r.cfg.RelayerPrivateKey == "" {
			return nil, bundler.DefaultStaticEstimator, nil
		}
		eth, err := r.ethClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		relayer, err := bundler.NewRelayer(eth, r.cfg.RelayerPrivateKey, entryPoint, common.HexToAddress(r.cfg.Beneficiary), r.chainID(), r.logger)
		if err != nil {
			return nil, nil, invalid("INVALID_RELAYER_KEY", err)
		}
		return relayer, bundler.DefaultStaticEstimator, nil

	default:
		if r.cfg.BundlerRPCURL == "" {
			return nil, bundler.DefaultStaticEstimator, nil
		}
		if r.bundler == nil {
			c, err := rpc.DialContext(ctx, r.cfg.BundlerRPCURL)
			if err != nil {
				return nil, nil, apperr.Transport("BUNDLER_UNAVAILABLE", "Bundler is not available", err)
			}
			r.bundler = c
			r.closers = append(r.closers, c.Close)
		}
		return bundler.NewBundlerSubmitter(r.bundler, entryPoint, 2*time.Second, 2*time.Minute, r.logger),
			bundler.NewRPCEstimator(r.bundler), nil
	}
}

// tokenList returns the aggregator's swappable tokens, or the built-in list
func (r *runtime) tokenList(ctx context.Context) []types.Token {
	return tokens.Swappable(tokens.LoadSupported(ctx, r.chainAPI, r.cfg.ChainID, r.logger))
}

// explorerURL links a transaction on the chain's block explorer
func (r *runtime) explorerURL(txHash string) string {
	switch r.cfg.ChainID {
	case tokens.ArbitrumOne:
		return "https://arbiscan.io/tx/" + txHash
	case 421614:
		return "https://sepolia.arbiscan.io/tx/" + txHash
	case 1:
		return "https://etherscan.io/tx/" + txHash
	case 8453:
		return "https://basescan.org/tx/" + txHash
	default:
		return ""
	}
}

// invalid turns a plain error into a validation error that is shown verbatim
func invalid(code string, err error) error {
	return apperr.Validation(code, err.Error()).Wrap(err)
}

func fail(err error) {
	printError(err)
	os.Exit(1)
}
