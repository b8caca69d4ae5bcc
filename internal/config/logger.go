package config

import rootlog "github.com/domonda/golog/log"

var log = rootlog.NewPackageLogger("config")
