package gdalreader

// #include "gdal.h"
// #cgo pkg-config: gdal
import "C"

import (
	"os"
	"sync"
)

var initOnce sync.Once

// initGdal sets GDAL configuration defaults the process environment has not
// already set, then registers the drivers.
func initGdal() {
	// Reading a source must never leave .aux.xml files next to it.
	setDefaultEnv("GDAL_PAM_ENABLED", "NO")
	setDefaultEnv("GDAL_DISABLE_READDIR_ON_OPEN", "EMPTY_DIR")
	setDefaultEnv("GDAL_NETCDF_VERIFY_DIMS", "NO")
	setDefaultEnv("GDAL_MAX_DATASET_POOL_SIZE", "10")

	C.GDALAllRegister()
}

func setDefaultEnv(envVar string, defaultVal string) {
	if _, ok := os.LookupEnv(envVar); !ok {
		os.Setenv(envVar, defaultVal)
	}
}
