package axml

import "github.com/pithecene-io/modpatch/chunk"

// AndroidNS is the android: attribute namespace URI.
const AndroidNS = "http://schemas.android.com/apk/res/android"

// Framework attribute resource ids (android.R.attr).
const (
	AttrLabel                        chunk.ResID = 0x01010001
	AttrIcon                         chunk.ResID = 0x01010002
	AttrName                         chunk.ResID = 0x01010003
	AttrDebuggable                   chunk.ResID = 0x0101000f
	AttrAuthorities                  chunk.ResID = 0x01010018
	AttrVersionCode                  chunk.ResID = 0x0101021b
	AttrVersionName                  chunk.ResID = 0x0101021c
	AttrMaxSdkVersion                chunk.ResID = 0x01010271
	AttrDrawable                     chunk.ResID = 0x01010199
	AttrUsesCleartextTraffic         chunk.ResID = 0x010104ec
	AttrRoundIcon                    chunk.ResID = 0x0101052c
	AttrNetworkSecurityConfig        chunk.ResID = 0x01010527
	AttrCompileSdkVersion            chunk.ResID = 0x01010572
	AttrCompileSdkVersionCodename    chunk.ResID = 0x01010573
	AttrRequestLegacyExternalStorage chunk.ResID = 0x01010603
)
