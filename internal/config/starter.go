package config

// Starter is the config written by `coven-paybot init`.
const Starter = `# coven-paybot configuration

server:
  http_addr: "127.0.0.1:8080"
  grpc_addr: "127.0.0.1:50051"

storage:
  driver: "sqlite"
  sqlite_path: "./paybot.db"

transport:
  kind: "headless"
  headless:
    prefix: "paybot"
    call_timeout: "30s"
    redis:
      addr: "127.0.0.1:6379"
  matrix:
    homeserver: "https://matrix.org"
    user_id: "@paybot:matrix.org"
    access_token: "${MATRIX_ACCESS_TOKEN}"
    command_prefix: "!pay"

ethereum:
  rpc_url: "http://127.0.0.1:8545"

identity:
  url: "http://127.0.0.1:3000"
  timeout: "10s"

fiat:
  url: "https://api.coinbase.com/v2/exchange-rates?currency=ETH"
  ttl: "5m"

bot:
  payment_address: ""
  token_id_address: ""
  dedupe_ttl: "10m"
  save_timeout: "10s"

auth:
  jwt_secret: "${PAYBOT_ADMIN_SECRET}"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true

tracing:
  enabled: false
`
